package media

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the closed set of media kinds a remote item can carry.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
	KindPhoto
	KindDocument
	KindVoice
	KindVideoNote
	KindAnimation
	KindSticker
)

var kindNames = map[Kind]string{
	KindUnknown:   "file",
	KindAudio:     "audio",
	KindVideo:     "video",
	KindPhoto:     "photo",
	KindDocument:  "document",
	KindVoice:     "voice",
	KindVideoNote: "video_note",
	KindAnimation: "animation",
	KindSticker:   "sticker",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return kindNames[KindUnknown]
}

// AllKinds returns every selectable kind in declaration order.
func AllKinds() []Kind {
	return []Kind{KindAudio, KindVideo, KindPhoto, KindDocument, KindVoice, KindVideoNote, KindAnimation, KindSticker}
}

// ParseKind maps a kind name (case-insensitive) to its Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	for _, k := range AllKinds() {
		if kindNames[k] == name {
			return k, nil
		}
	}

	return KindUnknown, fmt.Errorf("unknown media kind %q", s)
}

// KindSet is a set of selected media kinds. The empty set matches nothing.
type KindSet map[Kind]struct{}

func NewKindSet(kinds ...Kind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}

	return set
}

// ParseKinds parses a comma separated list such as "audio,video". The
// special value "all" selects every kind.
func ParseKinds(s string) (KindSet, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return NewKindSet(AllKinds()...), nil
	}

	set := KindSet{}

	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}

		k, err := ParseKind(part)
		if err != nil {
			return nil, err
		}

		set[k] = struct{}{}
	}

	return set, nil
}

func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]

	return ok
}

func (s KindSet) String() string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k.String())
	}

	slices.Sort(names)

	return strings.Join(names, ",")
}

// Target is the resolved handle of a remote collection (chat, channel or folder).
type Target struct {
	ID    int64
	Title string
}

// Item is a single remote media item, classified once at the source boundary.
type Item struct {
	ID   int64
	Name string // original file name; empty when the remote has none
	Size int64
	MIME string
	Kind Kind
}

// Matches reports whether the item's kind is among the selected kinds.
func (i *Item) Matches(kinds KindSet) bool {
	return kinds.Has(i.Kind)
}
