package core

import "github.com/jackc/pgx/v5/pgtype"

// Bridge field codes referenced outside the dispatch table.
const (
	CodeStateCode    = "BL01"
	CodeBridgeNumber = "BID01"
	CodeNBISLength   = "BG01"
	CodeTotalLength  = "BG02"
)

// Bridge is the primary inventory record.
type Bridge struct {
	StateCode         pgtype.Text    // BL01
	CountyCode        pgtype.Text    // BL02
	PlaceCode         pgtype.Text    // BL03
	District          pgtype.Text    // BL04
	Latitude          pgtype.Numeric // BL05
	Longitude         pgtype.Numeric // BL06
	BridgeNumber      pgtype.Text    // BID01
	BridgeName        pgtype.Text    // BID02
	PreviousNumber    pgtype.Text    // BID03
	Owner             pgtype.Text    // BCL01
	Maintainer        pgtype.Text    // BCL02
	NBISLength        pgtype.Bool    // BG01
	TotalLength       pgtype.Numeric // BG02
	MaxSpanLength     pgtype.Numeric // BG03
	DeckWidth         pgtype.Numeric // BG06
	DeckCondition     pgtype.Text    // BC01
	SuperCondition    pgtype.Text    // BC02
	SubCondition      pgtype.Text    // BC03
	CulvertCondition  pgtype.Text    // BC04
	YearBuilt         pgtype.Numeric // BW01
	DesignLoad        pgtype.Text    // BLR01
	InventoryRouteRef pgtype.Text    // BLR02
}

var bridgeFields = NewFieldTable(
	textField(CodeStateCode, func(b *Bridge) *pgtype.Text { return &b.StateCode }),
	textField("BL02", func(b *Bridge) *pgtype.Text { return &b.CountyCode }),
	textField("BL03", func(b *Bridge) *pgtype.Text { return &b.PlaceCode }),
	textField("BL04", func(b *Bridge) *pgtype.Text { return &b.District }),
	numericField("BL05", func(b *Bridge) *pgtype.Numeric { return &b.Latitude }),
	numericField("BL06", func(b *Bridge) *pgtype.Numeric { return &b.Longitude }),
	textField(CodeBridgeNumber, func(b *Bridge) *pgtype.Text { return &b.BridgeNumber }),
	textField("BID02", func(b *Bridge) *pgtype.Text { return &b.BridgeName }),
	textField("BID03", func(b *Bridge) *pgtype.Text { return &b.PreviousNumber }),
	textField("BCL01", func(b *Bridge) *pgtype.Text { return &b.Owner }),
	textField("BCL02", func(b *Bridge) *pgtype.Text { return &b.Maintainer }),
	flagField(CodeNBISLength, func(b *Bridge) *pgtype.Bool { return &b.NBISLength }),
	numericField(CodeTotalLength, func(b *Bridge) *pgtype.Numeric { return &b.TotalLength }),
	numericField("BG03", func(b *Bridge) *pgtype.Numeric { return &b.MaxSpanLength }),
	numericField("BG06", func(b *Bridge) *pgtype.Numeric { return &b.DeckWidth }),
	textField("BC01", func(b *Bridge) *pgtype.Text { return &b.DeckCondition }),
	textField("BC02", func(b *Bridge) *pgtype.Text { return &b.SuperCondition }),
	textField("BC03", func(b *Bridge) *pgtype.Text { return &b.SubCondition }),
	textField("BC04", func(b *Bridge) *pgtype.Text { return &b.CulvertCondition }),
	numericField("BW01", func(b *Bridge) *pgtype.Numeric { return &b.YearBuilt }),
	textField("BLR01", func(b *Bridge) *pgtype.Text { return &b.DesignLoad }),
	textField("BLR02", func(b *Bridge) *pgtype.Text { return &b.InventoryRouteRef }),
)

func (b *Bridge) Entity() EntityType                     { return EntityBridge }
func (b *Bridge) Set(code string, v Value) (bool, error) { return bridgeFields.Set(b, code, v) }
func (b *Bridge) Get(code string) (Value, bool)          { return bridgeFields.Get(b, code) }
func (b *Bridge) Codes() []string                        { return bridgeFields.Codes() }
func (b *Bridge) Clone() EntityData                      { c := *b; return &c }

// QualifiesNBIS reports whether the bridge is designated NBIS length and
// carries a positive total length.
func (b *Bridge) QualifiesNBIS() bool {
	if !b.NBISLength.Valid || !b.NBISLength.Bool {
		return false
	}
	v, ok := bridgeFields.Get(b, CodeTotalLength)
	return ok && v.Num > 0
}

func init() {
	Register(EntityDefinition{
		Type:  EntityBridge,
		Label: "Bridges",
		Order: 0,
		New:   func() EntityData { return &Bridge{} },
	})
}
