package authmodel

// Route path constants shared by the endpoint client and the reference backend
const (
	// Auth Routes
	RouteLogin    = "/api/auth/login"
	RouteRegister = "/api/auth/register"
	RouteRefresh  = "/api/auth/refresh"
	RouteVerify   = "/api/auth/verify"
	RouteLogout   = "/api/auth/logout"

	// User scoped resources
	RouteProfile      = "/api/profile"
	RouteSettings     = "/api/settings"
	RouteEntitlements = "/api/entitlements"

	// Operational routes
	RouteHealth  = "/health"
	RouteMetrics = "/metrics"
)
