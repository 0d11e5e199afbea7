package memory

import (
	"context"

	"github.com/massgen-go/massgen/pkg/sysmsg"
)

// NoteSource adapts any SearchableMemory store into the archived per-turn
// memory notes the sysmsg "memory" section renders (spec.md §4.5 section 6).
// Each memory key is treated as a note's filename; a key's most recent
// message is its note content. Entries come back from Search ordered
// oldest-first, so sysmsg's own filename dedup (most-recent wins) needs no
// extra sorting here.
type NoteSource struct {
	Store SearchableMemory
}

// MemoryNotes implements orchestrator.MemoryProvider.
func (s NoteSource) MemoryNotes() []sysmsg.MemoryNote {
	if s.Store == nil {
		return nil
	}
	entries, err := s.Store.Search(context.Background(), "")
	if err != nil {
		return nil
	}
	notes := make([]sysmsg.MemoryNote, 0, len(entries))
	for _, e := range entries {
		notes = append(notes, sysmsg.MemoryNote{Filename: e.Key, Content: e.Message.Content})
	}
	return notes
}
