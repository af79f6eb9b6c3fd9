package indexer

import "strings"

// Chunk splits text into pieces of at most limit bytes. Text within the
// limit comes back as a single chunk. Longer text is split at paragraph
// boundaries (blank lines); a single paragraph over the limit is hard-split.
// Empty text yields one empty chunk so the record still gets a vector and
// stale longer versions get trimmed.
func Chunk(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, p := range paragraphs {
		if len(p) > limit {
			flush()
			for len(p) > limit {
				chunks = append(chunks, p[:limit])
				p = p[limit:]
			}
			if len(p) > 0 {
				cur.WriteString(p)
			}
			continue
		}
		// +2 for the paragraph separator that would rejoin them.
		if cur.Len() > 0 && cur.Len()+2+len(p) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}
