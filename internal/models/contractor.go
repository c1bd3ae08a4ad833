package models

// Review is a single review excerpt attached to a contractor listing.
type Review struct {
	Text   string   `json:"text"`
	Rating *float64 `json:"rating,omitempty"`
	Author string   `json:"author,omitempty"`
	Date   string   `json:"date,omitempty"`
}

// Contractor is a normalized lead extracted from a marketplace listing.
// Records are built once at the end of a worker run and never mutated.
type Contractor struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Rating          float64  `json:"rating"`
	ReviewCount     int      `json:"reviewCount"`
	Description     string   `json:"description"`
	ProfileURL      string   `json:"profileUrl"`
	ImageURL        string   `json:"imageUrl"`
	Pricing         string   `json:"pricing"`
	NeedsFollowUp   bool     `json:"needsFollowUp"`
	Specialties     []string `json:"specialties"`
	YearsExperience *int     `json:"yearsExperience,omitempty"`
	TopRated        bool     `json:"topRated"`
	PositiveReviews []Review `json:"positiveReviews"`
	NegativeReviews []Review `json:"negativeReviews"`
	Availability    string   `json:"availability"`
	Phone           string   `json:"phone,omitempty"`
	Email           string   `json:"email,omitempty"`
	Website         string   `json:"website,omitempty"`
	Platform        string   `json:"platform"`
}

// Classification is the subset of the AI problem classification that drives
// the contractor search. Values pass through verbatim into the agent task.
type Classification struct {
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory,omitempty"`
	ProblemSummary string `json:"problemSummary,omitempty"`
	ScopeOfWork    string `json:"scopeOfWork,omitempty"`
}
