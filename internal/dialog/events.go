package dialog

// EventKind classifies inbound events the way the messaging gateway sees them.
type EventKind int

const (
	EventText EventKind = iota
	EventChoice
	EventMedia
	EventCommand
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventChoice:
		return "choice"
	case EventMedia:
		return "media"
	case EventCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Commands recognized in every state.
const (
	CommandStart  = "start"
	CommandReset  = "reset"
	CommandCancel = "cancel"
)

// Media describes an attached photo or file. The bytes stay with the gateway
// until a blob store asks for them.
type Media struct {
	FileID   string
	FileName string
	MIMEType string
	Size     int
	Photo    bool
}

// Event is one inbound message, button press or attachment.
type Event struct {
	ChatID   int64
	CallerID int64
	Kind     EventKind
	// Text holds the message text, or the command name without the slash.
	Text string
	// Data holds the callback payload of a choice.
	Data  string
	Media *Media
}

// Option is one button of a choice prompt.
type Option struct {
	Label string
	Data  string
}

// Reply is an outbound message. A reply with Options is a choice prompt.
type Reply struct {
	Text    string
	HTML    bool
	Options [][]Option
}

func text(s string) Reply { return Reply{Text: s} }

// grid lays options out in rows of at most columns buttons.
func grid(options []Option, columns int) [][]Option {
	if columns < 1 {
		columns = 1
	}
	rows := make([][]Option, 0, (len(options)+columns-1)/columns)
	for start := 0; start < len(options); start += columns {
		end := start + columns
		if end > len(options) {
			end = len(options)
		}
		rows = append(rows, options[start:end])
	}
	return rows
}
