package types

// PipelineState is the record threaded through every pipeline stage
type PipelineState struct {
	RequestID      string             `json:"request_id,omitempty"`
	UserID         string             `json:"user_id" validate:"required"`
	Prompt         string             `json:"prompt" validate:"required"`
	Memories       []*MemoryRecord    `json:"memories"`
	Conversations  []ConversationTurn `json:"conversations"`
	Context        string             `json:"context"`
	Rationale      string             `json:"rationale"`
	RationaleHTML  string             `json:"rationale_html,omitempty"`
	Answer         string             `json:"answer"`
	AnswerHTML     string             `json:"answer_html,omitempty"`
	Citations      []Citation         `json:"citations"`
	History        []string           `json:"history"`
	Clarifications []string           `json:"clarifications"`
}

// NewPipelineState creates a state with every collection initialised
func NewPipelineState(userID, prompt string) *PipelineState {
	return &PipelineState{
		UserID:         userID,
		Prompt:         prompt,
		Memories:       []*MemoryRecord{},
		Conversations:  []ConversationTurn{},
		Citations:      []Citation{},
		History:        []string{},
		Clarifications: []string{},
	}
}

// AppendHistory records an audit entry. History only grows.
func (s *PipelineState) AppendHistory(entries ...string) {
	s.History = append(s.History, entries...)
}

// NeedsClarification reports whether a stage asked the user for more detail
func (s *PipelineState) NeedsClarification() bool {
	return len(s.Clarifications) > 0
}

// Clone returns a copy whose slices can be modified independently
func (s *PipelineState) Clone() *PipelineState {
	c := *s
	c.Memories = append([]*MemoryRecord{}, s.Memories...)
	c.Conversations = append([]ConversationTurn{}, s.Conversations...)
	c.Citations = append([]Citation{}, s.Citations...)
	c.History = append([]string{}, s.History...)
	c.Clarifications = append([]string{}, s.Clarifications...)
	return &c
}

// Normalize replaces nil collections so the state always serialises fully
func (s *PipelineState) Normalize() {
	if s.Memories == nil {
		s.Memories = []*MemoryRecord{}
	}
	if s.Conversations == nil {
		s.Conversations = []ConversationTurn{}
	}
	if s.Citations == nil {
		s.Citations = []Citation{}
	}
	if s.History == nil {
		s.History = []string{}
	}
	if s.Clarifications == nil {
		s.Clarifications = []string{}
	}
}
