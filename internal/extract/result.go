package extract

// Job carries one in-memory upload through an extractor. Uploads are capped
// well below memory pressure, so there is no temp-file indirection.
type Job struct {
	Data     []byte
	FileName string
	MIMEType string
}

// Result is the extracted plain text plus how it was obtained.
type Result struct {
	Text     string
	Method   string
	FileType string
}

// BuildCounts returns whitespace-delimited word and rune counts for text.
func BuildCounts(text string) (wordCount int, charCount int) {
	charCount = len([]rune(text))
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if inWord {
				wordCount++
				inWord = false
			}
			continue
		}
		inWord = true
	}
	if inWord {
		wordCount++
	}
	return
}
