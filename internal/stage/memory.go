package stage

// shortTermWindow bounds the number of recent lines an actor remembers verbatim.
const shortTermWindow = 10

// MemoryBank is one actor's private memory. It is only touched by the stage loop.
type MemoryBank struct {
	secrets   []string
	shortTerm []string
	longTerm  []string
}

// NewMemoryBank seeds a bank with the actor's secrets and starting memories.
func NewMemoryBank(secrets, memories []string) *MemoryBank {
	return &MemoryBank{
		secrets:  append([]string(nil), secrets...),
		longTerm: append([]string(nil), memories...),
	}
}

// Remember records something the actor just said or witnessed.
func (m *MemoryBank) Remember(line string) {
	if line == "" {
		return
	}
	m.shortTerm = append(m.shortTerm, line)
	if len(m.shortTerm) > shortTermWindow {
		m.shortTerm = m.shortTerm[len(m.shortTerm)-shortTermWindow:]
	}
}

// Consolidate moves a scene summary into long-term memory and clears the
// short-term window.
func (m *MemoryBank) Consolidate(summary string) {
	if summary != "" {
		m.longTerm = append(m.longTerm, summary)
	}
	m.shortTerm = nil
}

// Secrets returns the actor's private knowledge.
func (m *MemoryBank) Secrets() []string {
	return append([]string(nil), m.secrets...)
}

// Recall returns long-term memories followed by the short-term window.
func (m *MemoryBank) Recall() []string {
	out := make([]string, 0, len(m.longTerm)+len(m.shortTerm))
	out = append(out, m.longTerm...)
	return append(out, m.shortTerm...)
}
