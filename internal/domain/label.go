package domain

type LabelType string

const (
	LabelTypeSystem LabelType = "system"
	LabelTypeUser   LabelType = "user"
)

// Label is a provider folder. Gmail models folders as labels, so moving a
// message means adding the target label and dropping the source one.
type Label struct {
	ID   string
	Name string
	Type LabelType
}

const LabelInbox = "INBOX"
