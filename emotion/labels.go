package emotion

import "strings"

// Label is one of the seven canonical emotions.
type Label string

const (
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Surprised Label = "surprised"
	Fear      Label = "fear"
	Disgust   Label = "disgust"
	Neutral   Label = "neutral"
)

// Labels lists the taxonomy in a stable order.
var Labels = []Label{Happy, Sad, Angry, Surprised, Fear, Disgust, Neutral}

// synonyms maps lowercase classifier vocabulary onto the taxonomy.
var synonyms = map[string]Label{
	"happy":     Happy,
	"happiness": Happy,
	"joy":       Happy,
	"joyful":    Happy,
	"sad":       Sad,
	"sadness":   Sad,
	"angry":     Angry,
	"anger":     Angry,
	"surprise":  Surprised,
	"surprised": Surprised,
	"fear":      Fear,
	"fearful":   Fear,
	"scared":    Fear,
	"disgust":   Disgust,
	"disgusted": Disgust,
	"contempt":  Disgust,
	"neutral":   Neutral,
	"calm":      Neutral,
}

// Normalize maps a raw classifier label onto the taxonomy. Unknown input,
// including the empty string, maps to Neutral.
func Normalize(raw string) Label {
	if l, ok := synonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return l
	}
	return Neutral
}

// Valid reports whether l is one of the canonical labels.
func (l Label) Valid() bool {
	for _, c := range Labels {
		if l == c {
			return true
		}
	}
	return false
}

func (l Label) String() string { return string(l) }
