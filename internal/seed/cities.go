package seed

// StopSpec is a configured stop before it has an identifier.
type StopSpec struct {
	Name string
	Lat  float64
	Lng  float64
}

// RouteSpec refers to stops by their index in the city's stop list.
type RouteSpec struct {
	Name       string
	Stops      []int
	DistanceKm float64
	Duration   int
}

type City struct {
	Name   string
	Stops  []StopSpec
	Routes []RouteSpec
}

// Cities is the sample network loaded by a reseed.
var Cities = []City{
	{
		Name: "Delhi",
		Stops: []StopSpec{
			{"Red Fort", 28.6562, 77.2410},
			{"India Gate", 28.6129, 77.2295},
			{"Connaught Place", 28.6315, 77.2167},
			{"Karol Bagh", 28.6519, 77.1909},
			{"Rajouri Garden", 28.6449, 77.1212},
			{"Dwarka", 28.5921, 77.0460},
			{"Chandni Chowk", 28.6506, 77.2303},
			{"Khan Market", 28.5983, 77.2319},
		},
		Routes: []RouteSpec{
			{"Red Line", []int{0, 1, 2, 3}, 25.5, 45},
			{"Blue Line", []int{2, 3, 4, 5}, 30.2, 50},
			{"Green Line", []int{6, 0, 2, 7}, 18.7, 35},
		},
	},
	{
		Name: "Mumbai",
		Stops: []StopSpec{
			{"Gateway of India", 18.9220, 72.8347},
			{"Marine Drive", 18.9432, 72.8235},
			{"Bandra", 19.0596, 72.8295},
			{"Andheri", 19.1136, 72.8697},
			{"Juhu Beach", 19.0968, 72.8269},
			{"Worli", 19.0176, 72.8236},
			{"Powai", 19.1171, 72.9062},
		},
		Routes: []RouteSpec{
			{"Western Express", []int{0, 1, 5, 2, 3}, 35.8, 60},
			{"Coastal Route", []int{1, 0, 5, 4}, 22.4, 40},
			{"Tech Corridor", []int{2, 3, 6, 4}, 28.1, 45},
		},
	},
	{
		Name: "Bangalore",
		Stops: []StopSpec{
			{"MG Road", 12.9716, 77.5946},
			{"Koramangala", 12.9352, 77.6245},
			{"Electronic City", 12.8456, 77.6603},
			{"Whitefield", 12.9698, 77.7500},
			{"Indiranagar", 12.9719, 77.6412},
			{"Jayanagar", 12.9237, 77.5831},
			{"Marathahalli", 12.9591, 77.6974},
		},
		Routes: []RouteSpec{
			{"Tech Hub Express", []int{0, 4, 6, 3}, 32.5, 55},
			{"South Loop", []int{0, 1, 5, 2}, 28.9, 50},
			{"Central Line", []int{4, 0, 1, 6}, 24.3, 42},
		},
	},
}

// CityNames lists configured cities in table order.
func CityNames() []string {
	names := make([]string, 0, len(Cities))
	for _, c := range Cities {
		names = append(names, c.Name)
	}
	return names
}
