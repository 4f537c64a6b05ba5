package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/schemacanon/schema"
)

// Categories for evaluation cases.
const (
	CategoryParaphrase = "paraphrase" // open label is a rewording of one schema relation
	CategoryNearMiss   = "near-miss"  // a close but wrong relation ranks first
	CategoryNoMatch    = "no-match"   // nothing in the schema fits; gold is empty
	CategoryCanonical  = "canonical"  // open label is already a schema key
)

// Dataset is a schema plus labelled triplets to canonicalize against it.
type Dataset struct {
	Name   string            `json:"name" yaml:"name"`
	Schema []schema.Relation `json:"schema,omitempty" yaml:"schema,omitempty"`
	Tests  []TestCase        `json:"tests" yaml:"tests"`
}

// TestCase is one labelled triplet.
type TestCase struct {
	ID         string    `json:"id,omitempty" yaml:"id,omitempty"`
	Text       string    `json:"text" yaml:"text"`
	Triplet    [3]string `json:"triplet" yaml:"triplet"`
	Definition string    `json:"definition" yaml:"definition"`

	// Gold is the expected canonical relation. Empty means no schema
	// relation fits and the correct outcome is no match.
	Gold     string `json:"gold" yaml:"gold"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// LoadDataset reads a YAML or JSON dataset file.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = path
	}
	for i := range ds.Tests {
		if ds.Tests[i].ID == "" {
			ds.Tests[i].ID = fmt.Sprintf("%d", i+1)
		}
	}
	return ds, nil
}

// SampleDataset returns a small geography/biography set for smoke runs.
func SampleDataset() Dataset {
	return Dataset{
		Name: "Sample - Geography and Biography",
		Schema: []schema.Relation{
			{Name: "capitalOf", Definition: "The subject is the capital city of the object country or region."},
			{Name: "locatedIn", Definition: "The subject is geographically situated inside the object."},
			{Name: "bornIn", Definition: "The subject person was born in the object place."},
			{Name: "memberOf", Definition: "The subject belongs to the object organization or group."},
			{Name: "founded", Definition: "The subject person or group established the object organization."},
		},
		Tests: []TestCase{
			{
				ID:         "s1",
				Text:       "Paris has been the seat of the French government for centuries.",
				Triplet:    [3]string{"Paris", "seat of government of", "France"},
				Definition: "The subject city hosts the national government of the object country.",
				Gold:       "capitalOf",
				Category:   CategoryParaphrase,
			},
			{
				ID:         "s2",
				Text:       "Marie Curie was a native of Warsaw.",
				Triplet:    [3]string{"Marie Curie", "native of", "Warsaw"},
				Definition: "The subject person originally comes from the object place by birth.",
				Gold:       "bornIn",
				Category:   CategoryParaphrase,
			},
			{
				ID:         "s3",
				Text:       "Lyon lies in the Auvergne-Rhône-Alpes region.",
				Triplet:    [3]string{"Lyon", "lies in", "Auvergne-Rhône-Alpes"},
				Definition: "The subject place is physically inside the object region.",
				Gold:       "locatedIn",
				Category:   CategoryNearMiss,
			},
			{
				ID:         "s4",
				Text:       "Steve Jobs co-founded Apple in 1976.",
				Triplet:    [3]string{"Steve Jobs", "co-founded", "Apple"},
				Definition: "The subject person was one of those who established the object company.",
				Gold:       "founded",
				Category:   CategoryParaphrase,
			},
			{
				ID:         "s5",
				Text:       "Ada Lovelace admired Charles Babbage's work.",
				Triplet:    [3]string{"Ada Lovelace", "admired", "Charles Babbage"},
				Definition: "The subject regarded the object with respect and approval.",
				Gold:       "",
				Category:   CategoryNoMatch,
			},
			{
				ID:       "s6",
				Text:     "Germany is a member of the European Union.",
				Triplet:  [3]string{"Germany", "memberOf", "European Union"},
				Gold:     "memberOf",
				Category: CategoryCanonical,
			},
		},
	}
}
