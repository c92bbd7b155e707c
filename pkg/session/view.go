package session

// ViewState is the current selection. The zero value is the top level
// (book list).
type ViewState struct {
	BookID      string
	CharacterID int64
}

func (v ViewState) TopLevel() bool { return v.BookID == "" }

// View returns the current selection.
func (s *Session) View() ViewState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.view
}

// SelectBook opens a book and clears any character selection.
func (s *Session) SelectBook(id string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.bookIndex(id) < 0 {
		return ErrBookNotFound
	}
	s.view = ViewState{BookID: id}
	return nil
}

// SelectCharacter opens a character of the selected book.
func (s *Session) SelectCharacter(charID int64) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	i := s.bookIndex(s.view.BookID)
	if i < 0 {
		return ErrBookNotFound
	}
	if s.books[i].Character(charID) == nil {
		return ErrCharacterNotFound
	}
	s.view.CharacterID = charID
	return nil
}

// ClearSelection returns to the top level.
func (s *Session) ClearSelection() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.view = ViewState{}
}

// dropFromView clears selections that point at deleted records.
// Caller holds stateMu.
func (s *Session) dropFromView(bookID string, charID int64) {
	switch {
	case s.view.BookID == bookID && charID == 0:
		s.view = ViewState{}
	case s.view.BookID == bookID && s.view.CharacterID == charID:
		s.view.CharacterID = 0
	}
}
