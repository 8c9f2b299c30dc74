package dispatch

// UnassignedDriverColor marks a driver whose color was never set by a
// generation pass.
const UnassignedDriverColor = "#9CA3AF"

// driverPalette is the fixed color rotation used by route generation. The
// driver at index i receives driverPalette[i mod len(driverPalette)].
var driverPalette = [...]string{
	"#EF4444",
	"#F97316",
	"#F59E0B",
	"#84CC16",
	"#10B981",
	"#14B8A6",
	"#3B82F6",
	"#8B5CF6",
	"#EC4899",
	"#6366F1",
}

// ColorForIndex returns the palette color for the driver at the given index.
func ColorForIndex(index int) string {
	if index < 0 {
		return UnassignedDriverColor
	}
	return driverPalette[index%len(driverPalette)]
}
