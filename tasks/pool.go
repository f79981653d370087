// Package tasks holds the static catalog of task templates players draw from.
package tasks

import (
	"math/rand"

	"github.com/aryansinha9/irl-among-us/models"
)

// DefaultPerPlayer is how many tasks each non-spectator receives.
const DefaultPerPlayer = 5

// Mini-interaction types a task can require.
const (
	TypeIDScan     = "id-scan"
	TypeMedbayScan = "medbay-scan"
)

// Template is a catalog entry.
type Template struct {
	ID          string
	Description string
	Details     string
	RoomID      string
	Type        string
}

// Catalog is the built-in task list.
var Catalog = []Template{
	{
		ID:          "t1",
		Description: "Card Swipe",
		Details:     "Locate your ID card, proceed to Admin, and correctly enter your ID details on the console.",
		RoomID:      "Admin",
		Type:        TypeIDScan,
	},
	{
		ID:          "t8",
		Description: "Submit Scan",
		Details:     "Proceed to Medbay, scan the medical report, and enter the patient data to complete the diagnosis.",
		RoomID:      "Medbay",
		Type:        TypeMedbayScan,
	},
	{
		ID:          "t2",
		Description: "Download Data",
		Details:     "Download the data in the starting room and deliver it to the designated location to upload.",
		RoomID:      "Admin",
	},
	{
		ID:          "t3",
		Description: "Stabilise Reactor",
		Details:     "Complete the reactor stabilisation puzzle accurately.",
		RoomID:      "Reactor",
	},
	{
		ID:          "t5",
		Description: "Fix Wiring",
		Details:     "Match and connect the corresponding coloured wires correctly.",
		RoomID:      "Electrical",
	},
	{
		ID:          "t6",
		Description: "Secure the Ship",
		Details:     "Use the navigation map to locate the vault, crack the passcode, retrieve the key, restore power, and gain access to the cockpit.",
		RoomID:      "Navigation",
	},
}

// Pool draws random task sets from a catalog.
type Pool struct {
	templates []Template
}

// NewPool creates a pool over templates. An empty list falls back to Catalog.
func NewPool(templates []Template) *Pool {
	if len(templates) == 0 {
		templates = Catalog
	}
	return &Pool{templates: templates}
}

// Size returns the number of templates in the pool.
func (p *Pool) Size() int {
	return len(p.templates)
}

// Draw samples n templates without replacement. n is capped at the catalog
// size; every returned task starts incomplete.
func (p *Pool) Draw(rng *rand.Rand, n int) []models.Task {
	if n > len(p.templates) {
		n = len(p.templates)
	}
	if n <= 0 {
		return []models.Task{}
	}

	idx := rng.Perm(len(p.templates))[:n]
	out := make([]models.Task, 0, n)
	for _, i := range idx {
		t := p.templates[i]
		out = append(out, models.Task{
			ID:          t.ID,
			Description: t.Description,
			Details:     t.Details,
			RoomID:      t.RoomID,
			Type:        t.Type,
		})
	}
	return out
}
