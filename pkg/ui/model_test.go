package ui

import (
	"context"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/feed"
	"github.com/go-go-golems/roomchat/pkg/view"
)

type fakeBackend struct {
	mu       sync.Mutex
	selected []chat.RoomID
	sent     []string
	refresh  int
	sendErr  error
}

func (f *fakeBackend) SelectRoom(_ context.Context, room chat.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, room)
	return nil
}

func (f *fakeBackend) RefreshRooms(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return nil
}

func (f *fakeBackend) Send(_ context.Context, content string) (chat.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return chat.Envelope{Content: content}, f.sendErr
}

func newTestModel(t *testing.T, b Backend) Model {
	t.Helper()
	m := NewModel(context.Background(), b, Options{Copy: func(string) error { return nil }})
	return update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func enter(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func event(e feed.Event) tea.Msg {
	return EventMsg{Event: e}
}

func TestModel_AppliesFeed(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})
	m = update(t, m, event(feed.Event{Kind: feed.KindRooms, Rooms: []view.RoomEntry{
		{ID: 1, Name: "General", Preview: "hello"},
		{ID: 2, Name: "Random", Preview: view.NoMessagesPreview, Active: true},
	}}))
	m = update(t, m, event(feed.Event{Kind: feed.KindReset, Room: 2}))
	m = update(t, m, event(feed.Event{Kind: feed.KindHeader, Room: 2, Header: &view.RoomHeader{Room: 2, Name: "Random", Summary: "Alice, Bob"}}))
	m = update(t, m, event(feed.Event{Kind: feed.KindMessages, Room: 2, Rows: []view.MessageRow{
		{Room: 2, Variant: view.VariantOther, SenderName: "Alice", Time: "10:00", Content: "hi there"},
		{Room: 2, Variant: view.VariantNotice, Content: "Bob joined"},
	}}))
	m = update(t, m, event(feed.Event{Kind: feed.KindStatus, Status: "connected"}))

	require.Len(t, m.rows, 2)
	out := m.View()
	require.Contains(t, out, "1. General")
	require.Contains(t, out, "Random")
	require.Contains(t, out, "Alice, Bob")
	require.Contains(t, out, "hi there")
	require.Contains(t, out, "Bob joined")
	require.Contains(t, out, "connected")
}

func TestModel_MessagesForAnotherRoomReplacePane(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})
	m = update(t, m, event(feed.Event{Kind: feed.KindMessages, Room: 1, Rows: []view.MessageRow{{Room: 1, Content: "one"}}}))
	m = update(t, m, event(feed.Event{Kind: feed.KindMessages, Room: 2, Rows: []view.MessageRow{{Room: 2, Content: "two"}}}))
	require.Equal(t, chat.RoomID(2), m.room)
	require.Len(t, m.rows, 1)
	require.Equal(t, "two", m.rows[0].Content)

	m = update(t, m, event(feed.Event{Kind: feed.KindReset, Room: 2}))
	require.Empty(t, m.rows)
	require.Contains(t, m.View(), view.NoMessagesPreview)
}

func TestModel_Send(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(t, b)

	m, cmd := enter(t, m, "hello world")
	require.NotNil(t, cmd)
	require.Empty(t, m.input.Value())

	res := cmd()
	require.Equal(t, []string{"hello world"}, b.sent)
	m = update(t, m, res)
	require.Nil(t, m.alert)
}

func TestModel_SendFailureRestoresInput(t *testing.T) {
	b := &fakeBackend{sendErr: errors.New("not connected")}
	m := newTestModel(t, b)

	m, cmd := enter(t, m, "draft")
	m = update(t, m, cmd())
	require.NotNil(t, m.alert)
	require.Equal(t, view.AlertSend, m.alert.Kind)
	require.Equal(t, "draft", m.input.Value())
	require.Contains(t, m.View(), "not connected")
}

func TestModel_BlankInputDoesNothing(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(t, b)
	_, cmd := enter(t, m, "   ")
	require.Nil(t, cmd)
	require.Empty(t, b.sent)
}

func TestModel_Commands(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(t, b)
	m = update(t, m, event(feed.Event{Kind: feed.KindRooms, Rooms: []view.RoomEntry{
		{ID: 7, Name: "General"},
		{ID: 9, Name: "Random"},
	}}))

	m, cmd := enter(t, m, "/open 2")
	require.NotNil(t, cmd)
	require.Nil(t, cmd())

	_, cmd = enter(t, m, "/rooms")
	require.Nil(t, cmd())

	_, cmd = enter(t, m, "/leave")
	require.Nil(t, cmd())

	require.Equal(t, []chat.RoomID{9, chat.NoRoom}, b.selected)
	require.Equal(t, 1, b.refresh)

	m, cmd = enter(t, m, "/open 5")
	require.Nil(t, cmd)
	require.NotNil(t, m.alert)

	m, _ = enter(t, m, "/bogus")
	require.Contains(t, m.alert.Message, "unknown command")

	_, cmd = enter(t, m, "/quit")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_CycleRooms(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(t, b)
	m = update(t, m, event(feed.Event{Kind: feed.KindRooms, Rooms: []view.RoomEntry{
		{ID: 1, Name: "a"},
		{ID: 2, Name: "b", Active: true},
		{ID: 3, Name: "c"},
	}}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	require.Nil(t, cmd())
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
	require.Nil(t, cmd())
	require.Equal(t, []chat.RoomID{3, 1}, b.selected)
}

func TestModel_CopyLast(t *testing.T) {
	var copied string
	m := NewModel(context.Background(), &fakeBackend{}, Options{Copy: func(s string) error {
		copied = s
		return nil
	}})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m = update(t, m, event(feed.Event{Kind: feed.KindMessages, Room: 1, Rows: []view.MessageRow{
		{Room: 1, Content: "first"},
		{Room: 1, Content: "last one"},
	}}))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, "last one", copied)
	require.Contains(t, m.View(), "copied last message")
}

func TestModel_AlertEvent(t *testing.T) {
	m := newTestModel(t, &fakeBackend{})
	m = update(t, m, event(feed.Event{Kind: feed.KindAlert, Alert: &view.Alert{Kind: view.AlertSend, Message: "Room is read-only"}}))
	require.Contains(t, m.View(), "Room is read-only")
}
