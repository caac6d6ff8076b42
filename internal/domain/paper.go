package domain

// Paper is the core entity describing one bibliographic record surfaced by a
// notification feed. The canonical URL doubles as its identity; title, authors
// and abstract stay imprecise until content completion fills them in.
type Paper struct {
	Title        string
	Authors      []string
	Abstract     string
	URL          string
	SourceDomain string
}

// ID returns the paper identity used for deduplication.
func (p *Paper) ID() string {
	return p.URL
}

// Apply merges fetched field data into the paper. URL and source domain are
// identity fields and are never touched.
func (p *Paper) Apply(data FieldData) {
	p.Title = data.Title
	p.Authors = data.Authors
	p.Abstract = data.Abstract
}

// FieldData carries the metadata extracted from one publisher response item.
// An empty title marks a "no data" placeholder that merge skips.
type FieldData struct {
	Title    string
	Abstract string
	Authors  []string
}

// Empty reports whether the item carries no retrievable data.
func (d FieldData) Empty() bool {
	return d.Title == ""
}
