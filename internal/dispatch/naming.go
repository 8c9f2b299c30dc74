package dispatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// protectedDriverSeq reserves route number zero for the unassigned bucket.
const protectedDriverSeq = 0

var driverNamePattern = regexp.MustCompile(`(?i)^driver\s+(\d+)$`)

// DriverName renders the display name for a route number.
func DriverName(number int) string {
	return fmt.Sprintf("Driver %d", number)
}

// DriverNumberFromName extracts the route number from a legacy "Driver N"
// display name. Names without a numeric suffix report false.
func DriverNumberFromName(name string) (int, bool) {
	match := driverNamePattern.FindStringSubmatch(strings.TrimSpace(name))
	if match == nil {
		return 0, false
	}
	number, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return number, true
}

func isProtectedDriver(driver Driver) bool {
	if driver.Seq == protectedDriverSeq {
		return true
	}
	number, ok := DriverNumberFromName(driver.Name)
	return ok && number == protectedDriverSeq
}
