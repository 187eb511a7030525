package core

import "github.com/jackc/pgx/v5/pgtype"

// Element is a national bridge element condition row.
type Element struct {
	Number        pgtype.Text    // BE01
	ParentNumber  pgtype.Text    // BE02
	TotalQuantity pgtype.Numeric // BE03
	CS1           pgtype.Numeric // BCS01
	CS2           pgtype.Numeric // BCS02
	CS3           pgtype.Numeric // BCS03
	CS4           pgtype.Numeric // BCS04
}

var elementFields = NewFieldTable(
	textField("BE01", func(e *Element) *pgtype.Text { return &e.Number }),
	textField("BE02", func(e *Element) *pgtype.Text { return &e.ParentNumber }),
	numericField("BE03", func(e *Element) *pgtype.Numeric { return &e.TotalQuantity }),
	numericField("BCS01", func(e *Element) *pgtype.Numeric { return &e.CS1 }),
	numericField("BCS02", func(e *Element) *pgtype.Numeric { return &e.CS2 }),
	numericField("BCS03", func(e *Element) *pgtype.Numeric { return &e.CS3 }),
	numericField("BCS04", func(e *Element) *pgtype.Numeric { return &e.CS4 }),
)

func (e *Element) Entity() EntityType                     { return EntityElement }
func (e *Element) Set(code string, v Value) (bool, error) { return elementFields.Set(e, code, v) }
func (e *Element) Get(code string) (Value, bool)          { return elementFields.Get(e, code) }
func (e *Element) Codes() []string                        { return elementFields.Codes() }
func (e *Element) Clone() EntityData                      { c := *e; return &c }

// Feature describes what the bridge carries or crosses.
type Feature struct {
	Type     pgtype.Text // BF01
	Location pgtype.Text // BF02
	Name     pgtype.Text // BF03
}

var featureFields = NewFieldTable(
	textField("BF01", func(f *Feature) *pgtype.Text { return &f.Type }),
	textField("BF02", func(f *Feature) *pgtype.Text { return &f.Location }),
	textField("BF03", func(f *Feature) *pgtype.Text { return &f.Name }),
)

func (f *Feature) Entity() EntityType                     { return EntityFeature }
func (f *Feature) Set(code string, v Value) (bool, error) { return featureFields.Set(f, code, v) }
func (f *Feature) Get(code string) (Value, bool)          { return featureFields.Get(f, code) }
func (f *Feature) Codes() []string                        { return featureFields.Codes() }
func (f *Feature) Clone() EntityData                      { c := *f; return &c }

// Route is a highway route on or under the bridge.
type Route struct {
	Designation pgtype.Text // BRT01
	Number      pgtype.Text // BRT02
	Direction   pgtype.Text // BRT03
	Type        pgtype.Text // BRT04
	Service     pgtype.Text // BRT05
}

var routeFields = NewFieldTable(
	textField("BRT01", func(r *Route) *pgtype.Text { return &r.Designation }),
	textField("BRT02", func(r *Route) *pgtype.Text { return &r.Number }),
	textField("BRT03", func(r *Route) *pgtype.Text { return &r.Direction }),
	textField("BRT04", func(r *Route) *pgtype.Text { return &r.Type }),
	textField("BRT05", func(r *Route) *pgtype.Text { return &r.Service }),
)

func (r *Route) Entity() EntityType                     { return EntityRoute }
func (r *Route) Set(code string, v Value) (bool, error) { return routeFields.Set(r, code, v) }
func (r *Route) Get(code string) (Value, bool)          { return routeFields.Get(r, code) }
func (r *Route) Codes() []string                        { return routeFields.Codes() }
func (r *Route) Clone() EntityData                      { c := *r; return &c }

// Inspection is one inspection event.
type Inspection struct {
	Type           pgtype.Text    // BIE01
	BeginDate      pgtype.Date    // BIE02
	CompletionDate pgtype.Date    // BIE03
	IntervalMonths pgtype.Numeric // BIE05
	QualityDate    pgtype.Date    // BIE07
}

var inspectionFields = NewFieldTable(
	textField("BIE01", func(i *Inspection) *pgtype.Text { return &i.Type }),
	dateField("BIE02", func(i *Inspection) *pgtype.Date { return &i.BeginDate }),
	dateField("BIE03", func(i *Inspection) *pgtype.Date { return &i.CompletionDate }),
	numericField("BIE05", func(i *Inspection) *pgtype.Numeric { return &i.IntervalMonths }),
	dateField("BIE07", func(i *Inspection) *pgtype.Date { return &i.QualityDate }),
)

func (i *Inspection) Entity() EntityType                     { return EntityInspection }
func (i *Inspection) Set(code string, v Value) (bool, error) { return inspectionFields.Set(i, code, v) }
func (i *Inspection) Get(code string) (Value, bool)          { return inspectionFields.Get(i, code) }
func (i *Inspection) Codes() []string                        { return inspectionFields.Codes() }
func (i *Inspection) Clone() EntityData                      { c := *i; return &c }

// PostingEvaluation is a load rating result for one legal load.
type PostingEvaluation struct {
	LoadConfig   pgtype.Text    // BEP01
	RatingFactor pgtype.Numeric // BEP02
	PostingType  pgtype.Text    // BEP03
	PostingValue pgtype.Numeric // BEP04
}

var postingEvaluationFields = NewFieldTable(
	textField("BEP01", func(p *PostingEvaluation) *pgtype.Text { return &p.LoadConfig }),
	numericField("BEP02", func(p *PostingEvaluation) *pgtype.Numeric { return &p.RatingFactor }),
	textField("BEP03", func(p *PostingEvaluation) *pgtype.Text { return &p.PostingType }),
	numericField("BEP04", func(p *PostingEvaluation) *pgtype.Numeric { return &p.PostingValue }),
)

func (p *PostingEvaluation) Entity() EntityType { return EntityPostingEvaluation }
func (p *PostingEvaluation) Set(code string, v Value) (bool, error) {
	return postingEvaluationFields.Set(p, code, v)
}
func (p *PostingEvaluation) Get(code string) (Value, bool) { return postingEvaluationFields.Get(p, code) }
func (p *PostingEvaluation) Codes() []string               { return postingEvaluationFields.Codes() }
func (p *PostingEvaluation) Clone() EntityData             { c := *p; return &c }

// PostingStatus is a load posting status change.
type PostingStatus struct {
	Status     pgtype.Text // BPS01
	ChangeDate pgtype.Date // BPS02
}

var postingStatusFields = NewFieldTable(
	textField("BPS01", func(p *PostingStatus) *pgtype.Text { return &p.Status }),
	dateField("BPS02", func(p *PostingStatus) *pgtype.Date { return &p.ChangeDate }),
)

func (p *PostingStatus) Entity() EntityType { return EntityPostingStatus }
func (p *PostingStatus) Set(code string, v Value) (bool, error) {
	return postingStatusFields.Set(p, code, v)
}
func (p *PostingStatus) Get(code string) (Value, bool) { return postingStatusFields.Get(p, code) }
func (p *PostingStatus) Codes() []string               { return postingStatusFields.Codes() }
func (p *PostingStatus) Clone() EntityData             { c := *p; return &c }

// SpanSet groups spans sharing a configuration.
type SpanSet struct {
	Designation pgtype.Text    // BSP01
	Spans       pgtype.Numeric // BSP02
	BeamLines   pgtype.Numeric // BSP03
	Material    pgtype.Text    // BSP04
	Continuity  pgtype.Text    // BSP05
	Type        pgtype.Text    // BSP06
}

var spanSetFields = NewFieldTable(
	textField("BSP01", func(s *SpanSet) *pgtype.Text { return &s.Designation }),
	numericField("BSP02", func(s *SpanSet) *pgtype.Numeric { return &s.Spans }),
	numericField("BSP03", func(s *SpanSet) *pgtype.Numeric { return &s.BeamLines }),
	textField("BSP04", func(s *SpanSet) *pgtype.Text { return &s.Material }),
	textField("BSP05", func(s *SpanSet) *pgtype.Text { return &s.Continuity }),
	textField("BSP06", func(s *SpanSet) *pgtype.Text { return &s.Type }),
)

func (s *SpanSet) Entity() EntityType                     { return EntitySpanSet }
func (s *SpanSet) Set(code string, v Value) (bool, error) { return spanSetFields.Set(s, code, v) }
func (s *SpanSet) Get(code string) (Value, bool)          { return spanSetFields.Get(s, code) }
func (s *SpanSet) Codes() []string                        { return spanSetFields.Codes() }
func (s *SpanSet) Clone() EntityData                      { c := *s; return &c }

// SubstructureSet groups substructure units sharing a configuration.
type SubstructureSet struct {
	Designation pgtype.Text    // BSB01
	Units       pgtype.Numeric // BSB02
	Material    pgtype.Text    // BSB03
	Type        pgtype.Text    // BSB04
}

var substructureSetFields = NewFieldTable(
	textField("BSB01", func(s *SubstructureSet) *pgtype.Text { return &s.Designation }),
	numericField("BSB02", func(s *SubstructureSet) *pgtype.Numeric { return &s.Units }),
	textField("BSB03", func(s *SubstructureSet) *pgtype.Text { return &s.Material }),
	textField("BSB04", func(s *SubstructureSet) *pgtype.Text { return &s.Type }),
)

func (s *SubstructureSet) Entity() EntityType { return EntitySubstructureSet }
func (s *SubstructureSet) Set(code string, v Value) (bool, error) {
	return substructureSetFields.Set(s, code, v)
}
func (s *SubstructureSet) Get(code string) (Value, bool) { return substructureSetFields.Get(s, code) }
func (s *SubstructureSet) Codes() []string               { return substructureSetFields.Codes() }
func (s *SubstructureSet) Clone() EntityData             { c := *s; return &c }

// Work is a reconstruction or major work event.
type Work struct {
	Year      pgtype.Numeric // BW02
	Performed pgtype.Text    // BW03
}

var workFields = NewFieldTable(
	numericField("BW02", func(w *Work) *pgtype.Numeric { return &w.Year }),
	textField("BW03", func(w *Work) *pgtype.Text { return &w.Performed }),
)

func (w *Work) Entity() EntityType                     { return EntityWork }
func (w *Work) Set(code string, v Value) (bool, error) { return workFields.Set(w, code, v) }
func (w *Work) Get(code string) (Value, bool)          { return workFields.Get(w, code) }
func (w *Work) Codes() []string                        { return workFields.Codes() }
func (w *Work) Clone() EntityData                      { c := *w; return &c }

func init() {
	Register(EntityDefinition{Type: EntitySpanSet, Label: "Span Sets", Collection: "span_sets",
		SubKey: []string{"BSP01"}, Order: 1, New: func() EntityData { return &SpanSet{} }})
	Register(EntityDefinition{Type: EntitySubstructureSet, Label: "Substructure Sets", Collection: "substructure_sets",
		SubKey: []string{"BSB01"}, Order: 2, New: func() EntityData { return &SubstructureSet{} }})
	Register(EntityDefinition{Type: EntityElement, Label: "Elements", Collection: "elements",
		SubKey: []string{"BE01", "BE02"}, Order: 3, New: func() EntityData { return &Element{} }})
	Register(EntityDefinition{Type: EntityFeature, Label: "Features", Collection: "features",
		SubKey: []string{"BF01", "BF02"}, Order: 4, New: func() EntityData { return &Feature{} }})
	Register(EntityDefinition{Type: EntityRoute, Label: "Routes", Collection: "routes",
		SubKey: []string{"BRT01"}, Order: 5, New: func() EntityData { return &Route{} }})
	Register(EntityDefinition{Type: EntityInspection, Label: "Inspections", Collection: "inspections",
		SubKey: []string{"BIE01", "BIE02"}, Order: 6, New: func() EntityData { return &Inspection{} }})
	Register(EntityDefinition{Type: EntityPostingEvaluation, Label: "Posting Evaluations", Collection: "posting_evaluations",
		SubKey: []string{"BEP01"}, Order: 7, New: func() EntityData { return &PostingEvaluation{} }})
	Register(EntityDefinition{Type: EntityPostingStatus, Label: "Posting Statuses", Collection: "posting_statuses",
		SubKey: []string{"BPS01", "BPS02"}, Order: 8, New: func() EntityData { return &PostingStatus{} }})
	Register(EntityDefinition{Type: EntityWork, Label: "Work Events", Collection: "works",
		SubKey: []string{"BW02"}, Order: 9, New: func() EntityData { return &Work{} }})
}
