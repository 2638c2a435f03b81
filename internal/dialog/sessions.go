package dialog

import "sync"

// conversation is the dialog state of one chat. Its mutex is held for the
// whole processing of one event, so a chat never runs two events at once.
type conversation struct {
	mu    sync.Mutex
	refs  int
	state State
	draft *Draft
}

func (c *conversation) active() bool { return c.draft != nil }

func (c *conversation) reset() {
	c.state = ""
	c.draft = nil
}

// Sessions maps chats to their conversations. Idle conversations are
// dropped as soon as nobody holds them.
type Sessions struct {
	mu    sync.Mutex
	convs map[int64]*conversation
}

func NewSessions() *Sessions {
	return &Sessions{convs: make(map[int64]*conversation)}
}

// acquire returns the chat's conversation locked for the caller.
func (s *Sessions) acquire(chatID int64) *conversation {
	s.mu.Lock()
	c, ok := s.convs[chatID]
	if !ok {
		c = &conversation{}
		s.convs[chatID] = c
	}
	c.refs++
	s.mu.Unlock()

	c.mu.Lock()
	return c
}

func (s *Sessions) release(chatID int64, c *conversation) {
	c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	c.refs--
	if c.refs == 0 && !c.active() {
		delete(s.convs, chatID)
	}
}

// Len reports how many chats currently have a conversation entry.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
