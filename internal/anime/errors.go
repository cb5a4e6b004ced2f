package anime

import "fmt"

// ExtractionError means a page was fetched but its root container was
// missing, usually because the site changed its markup.
type ExtractionError struct {
	Source   Source
	Page     string
	Selector string
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("%s: could not find '%s' on %s", e.Source, e.Selector, e.Page)
}

type UnknownSourceError struct {
	Name string
}

func (e UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source '%s'", e.Name)
}
