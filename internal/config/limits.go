package config

const (
	// MaxDirectoryNameLength is the maximum length for directory names.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (names should be short and descriptive).
	MaxDirectoryNameLength = 255

	// OrderIndexGap is the spacing between sibling order indexes. Gapped
	// allocation lets later inserts land between siblings without
	// renumbering the whole set; when two neighbors run out of integer
	// room the sibling set is renumbered with this gap inside the same
	// transaction.
	OrderIndexGap = 1000

	// MaxSuggestionPrefixLength bounds the prefix accepted by the
	// suggestion endpoint.
	MaxSuggestionPrefixLength = 200
)
