package domain

// AnnotationType discriminates annotation geometry.
type AnnotationType string

const (
	AnnotationHLine     AnnotationType = "hline"
	AnnotationBox       AnnotationType = "box"
	AnnotationTrendLine AnnotationType = "trendline"
	AnnotationText      AnnotationType = "text"
	AnnotationArrow     AnnotationType = "arrow"
)

// Style carries the render hints shared by all annotation kinds. The core
// never interprets these; they are copied verbatim during propagation.
type Style struct {
	Color     string  `json:"color,omitempty"`
	FillColor string  `json:"fill_color,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Dashed    bool    `json:"dashed,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
}

// Point anchors geometry at (time, price).
type Point struct {
	Timestamp int64   `json:"timestamp"` // Unix ms
	Price     float64 `json:"price"`
}

// Geometry is the type-specific payload of an annotation. Implementations
// are plain value structs; Kind ties them back to the wire discriminator.
type Geometry interface {
	Kind() AnnotationType
}

// HLine is a horizontal price line, optionally a ray starting at FromTime.
type HLine struct {
	Price    float64 `json:"price"`
	FromTime int64   `json:"from_time,omitempty"` // 0 = full-width line
	ToTime   int64   `json:"to_time,omitempty"`   // 0 = extend to session end
	Label    string  `json:"label,omitempty"`
	Style    Style   `json:"style"`
}

// Kind returns AnnotationHLine.
func (HLine) Kind() AnnotationType { return AnnotationHLine }

// Box is a filled rectangle spanning two corners in (time, price) space.
type Box struct {
	A     Point  `json:"a"`
	B     Point  `json:"b"`
	Label string `json:"label,omitempty"`
	Style Style  `json:"style"`
}

// Kind returns AnnotationBox.
func (Box) Kind() AnnotationType { return AnnotationBox }

// TrendLine is a segment between two points.
type TrendLine struct {
	A     Point `json:"a"`
	B     Point `json:"b"`
	Style Style `json:"style"`
}

// Kind returns AnnotationTrendLine.
func (TrendLine) Kind() AnnotationType { return AnnotationTrendLine }

// Text is a string anchored at a point.
type Text struct {
	Anchor Point  `json:"anchor"`
	Body   string `json:"body"`
	Style  Style  `json:"style"`
}

// Kind returns AnnotationText.
func (Text) Kind() AnnotationType { return AnnotationText }

// ArrowDirection is the direction an Arrow points.
type ArrowDirection string

const (
	ArrowUp   ArrowDirection = "up"
	ArrowDown ArrowDirection = "down"
)

// Arrow marks a point with a directional glyph.
type Arrow struct {
	Anchor    Point          `json:"anchor"`
	Direction ArrowDirection `json:"direction"`
	Size      float64        `json:"size,omitempty"`
	Style     Style          `json:"style"`
}

// Kind returns AnnotationArrow.
func (Arrow) Kind() AnnotationType { return AnnotationArrow }

// Marker is the declarative output of a level calculator: geometry plus a
// stable slug that becomes the uniqueId component of the internal
// annotation it is rendered as. Timeframes limits rendering to specific
// charts; empty means all active timeframes.
type Marker struct {
	Slug       string
	Geometry   Geometry
	Timeframes []Timeframe
	Level      *PriceLevel // set when the marker also updates the level book
}
