package extract

import (
	"errors"
	"fmt"
)

var (
	errEmptyDocument = errors.New("document is empty")
	errMissingPage   = errors.New("page object missing")
)

// ExtractionError reports a document or page that could not be parsed.
// Page is 1-based; zero means the document itself could not be opened.
type ExtractionError struct {
	Document string
	Page     int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extracting %s page %d: %v", e.Document, e.Page, e.Err)
	}
	return fmt.Sprintf("extracting %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
