package models

// Format identifies an input geometry format.
type Format int

const (
	FormatUnknown Format = iota
	FormatSTEP
	FormatIGES
	FormatOBJ
)

func (f Format) String() string {
	switch f {
	case FormatSTEP:
		return "STEP"
	case FormatIGES:
		return "IGES"
	case FormatOBJ:
		return "OBJ"
	default:
		return "unknown"
	}
}

// IsBREP reports whether the format carries boundary-representation geometry that has to be
// tessellated before it can be written as STL.
func (f Format) IsBREP() bool {
	return f == FormatSTEP || f == FormatIGES
}
