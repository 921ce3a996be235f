package geo

// Territory describes where a point falls relative to the service area.
// It is advisory: callers never reject a query because of it.
type Territory struct {
	InServiceArea bool     `json:"inServiceArea"`
	Province      string   `json:"province,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// offshoreBuffer is how far (degrees) outside the national box a point can
// be before it is treated as clearly offshore or foreign.
const offshoreBuffer = 0.05

var serviceArea = BoundingBox{North: -22.0, South: -35.0, East: 33.0, West: 16.0}

type province struct {
	code, name string
	box        BoundingBox
}

// Province boxes overlap at the borders; the first match wins.
var provinces = []province{
	{"GP", "Gauteng", BoundingBox{North: -25.0, South: -27.0, East: 29.0, West: 27.0}},
	{"WC", "Western Cape", BoundingBox{North: -30.0, South: -35.0, East: 24.0, West: 17.5}},
	{"EC", "Eastern Cape", BoundingBox{North: -30.0, South: -34.5, East: 30.5, West: 22.5}},
	{"NC", "Northern Cape", BoundingBox{North: -24.5, South: -32.5, East: 25.5, West: 16.5}},
	{"FS", "Free State", BoundingBox{North: -26.5, South: -30.5, East: 29.5, West: 24.0}},
	{"KZN", "KwaZulu-Natal", BoundingBox{North: -26.5, South: -31.5, East: 33.0, West: 28.5}},
	{"NW", "North West", BoundingBox{North: -24.5, South: -28.0, East: 28.5, West: 22.5}},
	{"MP", "Mpumalanga", BoundingBox{North: -24.0, South: -27.5, East: 32.0, West: 28.5}},
	{"LP", "Limpopo", BoundingBox{North: -22.0, South: -25.0, East: 31.5, West: 26.5}},
}

// Locate classifies c against the national and provincial boxes.
func Locate(c Coordinates) Territory {
	if serviceArea.Contains(c) {
		t := Territory{InServiceArea: true}
		for _, p := range provinces {
			if p.box.Contains(c) {
				t.Province = p.name
				return t
			}
		}
		t.Warnings = append(t.Warnings, "coordinates inside national bounds but outside known provinces")
		return t
	}

	buffered := BoundingBox{
		North: serviceArea.North + offshoreBuffer,
		South: serviceArea.South - offshoreBuffer,
		East:  serviceArea.East + offshoreBuffer,
		West:  serviceArea.West - offshoreBuffer,
	}
	if buffered.Contains(c) {
		return Territory{Warnings: []string{"coordinates are near the border or coastline; coverage may be limited"}}
	}
	return Territory{Warnings: []string{"coordinates are outside the service territory"}}
}
