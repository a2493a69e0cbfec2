package coverage

import "regexp"

var (
	latitudePattern  = regexp.MustCompile(`(?i)lat`)
	longitudePattern = regexp.MustCompile(`(?i)lo?ng`)
)

func isCoordinateType(t VariableType) bool {
	return t == TypeFloat || t == TypeString
}

// GuessIndicators picks the first float or string variable whose name looks
// like a latitude and the first one that looks like a longitude. An axis with
// no candidate is returned empty.
func GuessIndicators(c *Collection) Indicators {
	var guess Indicators
	if c == nil {
		return guess
	}
	for _, v := range c.Variables {
		if !isCoordinateType(v.Type) {
			continue
		}
		if guess.Latitude == "" && latitudePattern.MatchString(v.Name) {
			guess.Latitude = v.Name
		}
		if guess.Longitude == "" && longitudePattern.MatchString(v.Name) {
			guess.Longitude = v.Name
		}
		if guess.Latitude != "" && guess.Longitude != "" {
			break
		}
	}
	return guess
}
