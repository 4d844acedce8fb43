package crawler

import (
	"strings"
	"time"
)

// Kind names the four record shapes produced by extraction.
type Kind string

// Record kinds, one per destination table.
const (
	KindDeal     Kind = "deal"
	KindImage    Kind = "image"
	KindCategory Kind = "category"
	KindRelated  Kind = "related"
)

// Record is any value produced by extraction and consumed by the pipeline.
type Record interface {
	Kind() Kind
}

// DealRecord is one extracted deal. URL is the natural key.
type DealRecord struct {
	DealID     string    `json:"dealid"`
	RecID      string    `json:"recid"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	Promo      string    `json:"promo"`
	Category   string    `json:"category"`
	Store      string    `json:"store"`
	Deal       string    `json:"deal"`
	DealPlus   string    `json:"dealplus"`
	DealLink   string    `json:"deallink"`
	DealText   string    `json:"dealtext"`
	DealHover  string    `json:"dealhover"`
	Published  string    `json:"published"`
	Popularity string    `json:"popularity"`
	StaffPick  string    `json:"staffpick"`
	Detail     string    `json:"detail"`
	RawHTML    string    `json:"raw_html"`
	PageURL    string    `json:"page_url"`
	FetchedAt  time.Time `json:"fetched_at"`

	// Source is the full body of the page the deal came from. It is only read by
	// the snapshot store and never persisted in the deals table.
	Source []byte `json:"-"`
}

// Kind implements Record.
func (DealRecord) Kind() Kind { return KindDeal }

// Rejection reasons reported by Validate.
const (
	ReasonMissingURL        = "missing url"
	ReasonMissingTitlePrice = "missing title and price"
)

// Validate returns a non-empty reason when the deal must not be persisted.
func (d DealRecord) Validate() string {
	if strings.TrimSpace(d.URL) == "" {
		return ReasonMissingURL
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Price) == "" {
		return ReasonMissingTitlePrice
	}
	return ""
}

// ImageRecord links an image URL to a deal.
type ImageRecord struct {
	DealID   string `json:"dealid"`
	ImageURL string `json:"imageurl"`
}

// Kind implements Record.
func (ImageRecord) Kind() Kind { return KindImage }

// CategoryRecord links a category to a deal.
type CategoryRecord struct {
	DealID string `json:"dealid"`
	Name   string `json:"category_name"`
	URL    string `json:"category_url"`
	Title  string `json:"category_title"`
}

// Kind implements Record.
func (CategoryRecord) Kind() Kind { return KindCategory }

// RelatedRecord links a related deal URL to a deal.
type RelatedRecord struct {
	DealID     string `json:"dealid"`
	RelatedURL string `json:"relatedurl"`
}

// Kind implements Record.
func (RelatedRecord) Kind() Kind { return KindRelated }

// Outcome classifies what happened to a record handed to an insert engine.
type Outcome string

// Insert outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped is returned while the store is disabled: the call is
	// accepted as a no-op so the crawl keeps going.
	OutcomeSkipped Outcome = "skipped"
)

// Result is returned by the insert engines.
type Result struct {
	Outcome Outcome
	// Reason explains a rejection.
	Reason string
	// Race is set on a duplicate detected by the unique constraint rather than
	// by the lookup, meaning a concurrent writer inserted the row first.
	Race bool
	Err  error
}

// Inserted builds a successful Result.
func Inserted() Result { return Result{Outcome: OutcomeInserted} }

// Duplicate builds a duplicate Result.
func Duplicate(race bool) Result { return Result{Outcome: OutcomeDuplicate, Race: race} }

// Rejected builds a validation Result.
func Rejected(reason string) Result { return Result{Outcome: OutcomeRejected, Reason: reason} }

// Failed builds a failure Result carrying err.
func Failed(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

// Skipped builds the disabled-store Result.
func Skipped() Result { return Result{Outcome: OutcomeSkipped} }
