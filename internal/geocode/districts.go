package geocode

import (
	"math"
	"strings"

	"github.com/foker/tgflats-sub000/internal/domain/entity"
)

// DistrictOther is the sentinel for coordinates no named district claims.
const DistrictOther = "Other"

// CityBounds is the fixed rectangular bounding box of the served city.
type CityBounds struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

func (b CityBounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// districtCenters are approximate centers of Tbilisi's districts.
var districtCenters = map[string]entity.GeoPoint{
	"Vake":        {Lat: 41.7069, Lng: 44.7525},
	"Saburtalo":   {Lat: 41.7249, Lng: 44.7478},
	"Vera":        {Lat: 41.7086, Lng: 44.7826},
	"Mtatsminda":  {Lat: 41.6920, Lng: 44.7905},
	"Sololaki":    {Lat: 41.6877, Lng: 44.8030},
	"Chugureti":   {Lat: 41.7134, Lng: 44.7998},
	"Didube":      {Lat: 41.7461, Lng: 44.7742},
	"Gldani":      {Lat: 41.7907, Lng: 44.8043},
	"Nadzaladevi": {Lat: 41.7557, Lng: 44.7891},
	"Isani":       {Lat: 41.6907, Lng: 44.8369},
	"Samgori":     {Lat: 41.6814, Lng: 44.8775},
	"Krtsanisi":   {Lat: 41.6694, Lng: 44.8265},
	"Dighomi":     {Lat: 41.7689, Lng: 44.7361},
	"Ortachala":   {Lat: 41.6800, Lng: 44.8180},
}

// districtAliases translates provider component names and free-text district
// mentions (Georgian, Russian, transliterations) to canonical names.
var districtAliases = map[string]string{
	"vake": "Vake", "ваке": "Vake", "ვაკე": "Vake",
	"saburtalo": "Saburtalo", "сабуртало": "Saburtalo", "საბურთალო": "Saburtalo",
	"vera": "Vera", "вера": "Vera", "ვერა": "Vera",
	"mtatsminda": "Mtatsminda", "мтацминда": "Mtatsminda", "მთაწმინდა": "Mtatsminda",
	"sololaki": "Sololaki", "сололаки": "Sololaki", "სოლოლაკი": "Sololaki",
	"chugureti": "Chugureti", "чугурети": "Chugureti", "ჩუღურეთი": "Chugureti",
	"didube": "Didube", "дидубе": "Didube", "დიდუბე": "Didube",
	"gldani": "Gldani", "глдани": "Gldani", "გლდანი": "Gldani",
	"nadzaladevi": "Nadzaladevi", "надзаладеви": "Nadzaladevi", "ნაძალადევი": "Nadzaladevi",
	"isani": "Isani", "исани": "Isani", "ისანი": "Isani",
	"samgori": "Samgori", "самгори": "Samgori", "სამგორი": "Samgori",
	"krtsanisi": "Krtsanisi", "крцаниси": "Krtsanisi", "კრწანისი": "Krtsanisi",
	"dighomi": "Dighomi", "digomi": "Dighomi", "дигоми": "Dighomi", "დიღომი": "Dighomi",
	"ortachala": "Ortachala", "ортачала": "Ortachala", "ორთაჭალა": "Ortachala",
}

// nearestDistrictMaxKm bounds how far a coordinate may sit from a district
// center and still inherit its name.
const nearestDistrictMaxKm = 3.5

// CanonicalDistrict maps a provider component or free-text name to the
// canonical district, or "" when unknown.
func CanonicalDistrict(name string) string {
	return districtAliases[strings.ToLower(strings.TrimSpace(name))]
}

// MatchDistrictName finds the first known district mentioned in free text.
func MatchDistrictName(text string) string {
	lower := strings.ToLower(text)
	for alias, canonical := range districtAliases {
		if strings.Contains(lower, alias) {
			return canonical
		}
	}
	return ""
}

// DistrictFromPoint names the district whose center is nearest to the point,
// within nearestDistrictMaxKm; otherwise Other.
func DistrictFromPoint(lat, lng float64) string {
	best := DistrictOther
	bestKm := nearestDistrictMaxKm
	for name, center := range districtCenters {
		km := haversineKm(lat, lng, center.Lat, center.Lng)
		if km < bestKm {
			best = name
			bestKm = km
		}
	}
	return best
}

// DistrictCenter returns the fixed center for a canonical district name.
func DistrictCenter(name string) (entity.GeoPoint, bool) {
	p, ok := districtCenters[name]
	return p, ok
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
