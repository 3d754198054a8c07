package models

// Classification labels how demanding a query is.
type Classification string

const (
	// ClassificationTrivial marks a query answerable with a short fact, a
	// definition or a quick calculation.
	ClassificationTrivial Classification = "TRIVIAL"
	// ClassificationComplex marks a query that needs explanation, creative
	// generation, multi-step reasoning or nuanced analysis.
	ClassificationComplex Classification = "COMPLEX"
)

// Valid reports whether c is one of the two known labels.
func (c Classification) Valid() bool {
	return c == ClassificationTrivial || c == ClassificationComplex
}

func (c Classification) String() string {
	return string(c)
}

// Route is the outcome of classifying a query and selecting a model for it.
type Route struct {
	Classification Classification
	Model          string
}

// SmartAnswer captures the result of routing and answering one query.
// When Error is set, Answer is empty.
type SmartAnswer struct {
	Classification Classification
	ModelUsed      string
	Answer         string
	Error          string
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
}
