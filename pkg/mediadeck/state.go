package mediadeck

import "sync"

// State is the process-wide mutable state shared between the watcher task and
// the user-triggered action handlers. A single instance is constructed by the
// orchestrator and passed down explicitly - no package-level globals.
//
// Locks are held only across the read-modify-write itself, never across a bus
// or network call, so a slow fetch on one surface can't stall another
type State struct {
	playerMu         sync.Mutex
	lastActivePlayer PlayerHandle

	dialMu sync.Mutex
	dials  map[string]*DialSelection

	pressedMu sync.Mutex
	pressed   map[string]bool
}

func NewState() *State {
	return &State{
		dials:   make(map[string]*DialSelection),
		pressed: make(map[string]bool),
	}
}

// LastActivePlayer returns the most recently observed playing player, which
// may no longer exist on the bus. Callers must validate it against the live
// candidate set before using it
func (s *State) LastActivePlayer() PlayerHandle {
	s.playerMu.Lock()
	defer s.playerMu.Unlock()

	return s.lastActivePlayer
}

func (s *State) SetLastActivePlayer(player PlayerHandle) {
	s.playerMu.Lock()
	defer s.playerMu.Unlock()

	s.lastActivePlayer = player
}

// Dial returns the selection state for the given surface instance, creating
// it on first interaction
func (s *State) Dial(instanceID string) *DialSelection {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	dial, ok := s.dials[instanceID]
	if !ok {
		dial = &DialSelection{}
		s.dials[instanceID] = dial
	}

	return dial
}

// DropDial forgets the selection state of a torn-down surface instance
func (s *State) DropDial(instanceID string) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	delete(s.dials, instanceID)
}

// SetPressed records whether the given surface's dial is currently held down
func (s *State) SetPressed(instanceID string, pressed bool) {
	s.pressedMu.Lock()
	defer s.pressedMu.Unlock()

	s.pressed[instanceID] = pressed
}

// Pressed reports whether the given surface's dial is currently held down
func (s *State) Pressed(instanceID string) bool {
	s.pressedMu.Lock()
	defer s.pressedMu.Unlock()

	return s.pressed[instanceID]
}
