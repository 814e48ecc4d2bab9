package cache

import "fmt"

const (
	KeyStops  = "stops"
	KeyRoutes = "routes"
)

func KeyRouteStops(routeID string) string {
	return fmt.Sprintf("route:%s:stops", routeID)
}
