package safety

import (
	"context"
	"log/slog"
	"strings"
)

// Assessment is the safety view of one message.
type Assessment struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
	Crisis  bool    `json:"crisis"`
}

// Detector combines emotion classification with crisis phrase detection.
type Detector struct {
	classifier Classifier
	logger     *slog.Logger
}

// NewDetector creates a detector. A nil classifier always reports neutral.
func NewDetector(classifier Classifier, logger *slog.Logger) *Detector {
	if classifier == nil {
		classifier = StaticClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{classifier: classifier, logger: logger}
}

// Assess classifies text. A classifier failure degrades to neutral; crisis
// detection never depends on the classifier.
func (d *Detector) Assess(ctx context.Context, text string) Assessment {
	a := Assessment{Emotion: LabelNeutral, Crisis: DetectCrisis(text)}

	emotion, err := d.classifier.Classify(ctx, text)
	if err != nil {
		d.logger.Warn("emotion classification failed, assuming neutral", "error", err)
		return a
	}
	if label := strings.ToLower(strings.TrimSpace(emotion.Label)); label != "" {
		a.Emotion = label
		a.Score = emotion.Score
	}
	return a
}
