package content

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	blockStart    = regexp.MustCompile(`<!--\s+(/)?wp:([a-z][a-z0-9_-]*/)?([a-z][a-z0-9_-]*)\s+`)
	blockAttrsEnd = regexp.MustCompile(`\}\s+(/)?-->`)
	blockBareEnd  = regexp.MustCompile(`^(/)?-->`)
)

// Block is a node of a parsed block document. Freeform HTML between
// delimiters is a Block with an empty Name and its text in HTML.
type Block struct {
	// Name is the namespaced block name; blocks written without a
	// namespace belong to "core".
	Name  string
	Attrs json.RawMessage
	Inner []*Block
	HTML  string
	Void  bool

	rawName string
	opener  string
	closer  string
	dirty   bool
}

// IsFreeform reports whether b is HTML outside any block delimiter.
func (b *Block) IsFreeform() bool { return b.Name == "" }

// DecodeAttrs returns the block attributes. Numbers are kept as json.Number.
func (b *Block) DecodeAttrs() (map[string]any, error) {
	if len(b.Attrs) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b.Attrs))
	dec.UseNumber()
	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// SetAttrs replaces the block attributes. The opening delimiter is
// re-rendered on the next Serialize.
func (b *Block) SetAttrs(attrs map[string]any) error {
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	// "--" would close the HTML comment early.
	encoded = bytes.ReplaceAll(encoded, []byte("--"), []byte(`\u002d\u002d`))
	b.Attrs = encoded
	b.dirty = true
	return nil
}

type token struct {
	start, end int
	closer     bool
	void       bool
	rawName    string
	name       string
	attrs      string
}

func nextToken(s string, from int) (token, bool) {
	for from < len(s) {
		loc := blockStart.FindStringSubmatchIndex(s[from:])
		if loc == nil {
			return token{}, false
		}
		t := token{start: from + loc[0]}
		t.closer = loc[2] >= 0
		ns := ""
		if loc[4] >= 0 {
			ns = s[from+loc[4] : from+loc[5]]
		}
		local := s[from+loc[6] : from+loc[7]]
		t.rawName = ns + local
		if ns == "" {
			t.name = "core/" + local
		} else {
			t.name = t.rawName
		}

		rest := from + loc[1]
		if !t.closer && rest < len(s) && s[rest] == '{' {
			if end := blockAttrsEnd.FindStringSubmatchIndex(s[rest:]); end != nil {
				t.attrs = s[rest : rest+end[0]+1]
				t.void = end[2] >= 0
				t.end = rest + end[1]
				return t, true
			}
		} else if end := blockBareEnd.FindStringSubmatchIndex(s[rest:]); end != nil {
			t.void = end[2] >= 0
			t.end = rest + end[1]
			return t, true
		}
		from = t.start + len("<!--")
	}
	return token{}, false
}

// ParseBlocks splits a post body into a block tree. Unbalanced closers are
// kept as freeform HTML and unclosed blocks run to the end of the input, so
// SerializeBlocks(ParseBlocks(s)) == s for any s.
func ParseBlocks(s string) []*Block {
	var root []*Block
	var stack []*Block

	appendNode := func(b *Block) {
		if len(stack) == 0 {
			root = append(root, b)
			return
		}
		top := stack[len(stack)-1]
		top.Inner = append(top.Inner, b)
	}
	appendText := func(text string) {
		if text != "" {
			appendNode(&Block{HTML: text})
		}
	}

	pos := 0
	for {
		t, ok := nextToken(s, pos)
		if !ok {
			appendText(s[pos:])
			break
		}
		appendText(s[pos:t.start])
		raw := s[t.start:t.end]
		switch {
		case t.closer:
			if len(stack) > 0 && stack[len(stack)-1].Name == t.name {
				stack[len(stack)-1].closer = raw
				stack = stack[:len(stack)-1]
			} else {
				appendText(raw)
			}
		default:
			b := &Block{Name: t.name, rawName: t.rawName, Void: t.void, opener: raw}
			if t.attrs != "" {
				b.Attrs = json.RawMessage(t.attrs)
			}
			appendNode(b)
			if !t.void {
				stack = append(stack, b)
			}
		}
		pos = t.end
	}
	return root
}

// SerializeBlocks renders a block tree back to markup. Untouched blocks are
// written exactly as parsed.
func SerializeBlocks(blocks []*Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		writeBlock(&sb, b)
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, b *Block) {
	if b.IsFreeform() {
		sb.WriteString(b.HTML)
		return
	}
	if b.dirty || b.opener == "" {
		sb.WriteString(renderOpener(b))
	} else {
		sb.WriteString(b.opener)
	}
	for _, child := range b.Inner {
		writeBlock(sb, child)
	}
	if b.Void {
		return
	}
	switch {
	case b.closer != "":
		sb.WriteString(b.closer)
	case b.opener == "":
		sb.WriteString("<!-- /wp:" + b.displayName() + " -->")
	}
}

func (b *Block) displayName() string {
	if b.rawName != "" {
		return b.rawName
	}
	return strings.TrimPrefix(b.Name, "core/")
}

func renderOpener(b *Block) string {
	var sb strings.Builder
	sb.WriteString("<!-- wp:")
	sb.WriteString(b.displayName())
	sb.WriteByte(' ')
	if len(b.Attrs) > 0 && string(b.Attrs) != "{}" {
		sb.Write(b.Attrs)
		sb.WriteByte(' ')
	}
	if b.Void {
		sb.WriteString("/-->")
	} else {
		sb.WriteString("-->")
	}
	return sb.String()
}

// WalkBlocks calls fn for every non-freeform block, children before their
// parent.
func WalkBlocks(blocks []*Block, fn func(*Block)) {
	for _, b := range blocks {
		if b.IsFreeform() {
			continue
		}
		WalkBlocks(b.Inner, fn)
		fn(b)
	}
}
