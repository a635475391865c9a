package consensus

import "strings"

var reactionChoices = map[string]Choice{
	"👍": Approve,
	"✅": Approve,
	"❤️": Approve,
	"❤": Approve,
	"🔥": Approve,
	"👌": Approve,
	"👎": Reject,
	"❌": Reject,
	"🚫": Reject,
}

// ChoiceForReaction maps an external reaction kind to a vote. Explicit
// "approve"/"reject" kinds are accepted as well so non-emoji channels can use
// the same path.
func ChoiceForReaction(kind string) (Choice, error) {
	k := strings.TrimSpace(kind)
	if c, ok := reactionChoices[k]; ok {
		return c, nil
	}
	if c := Choice(strings.ToLower(k)); c.Valid() {
		return c, nil
	}
	return "", ErrUnsupportedReaction
}
