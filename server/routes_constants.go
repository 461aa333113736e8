package server

// Route path constants
const (
	RouteUserLogin      = "/user/login"
	RouteUserAuthorized = "/user/authorized"
	RouteUserInfo       = "/user/info"
	RouteUserLogout     = "/user/logout"
	RouteUserPhoto      = "/user/photo"
	RouteUserDebug      = "/user/debug"

	// Optional trailing redirect target, e.g. /user/login/dashboard
	routeRedirectSuffix = "/{to...}"
)

// Outbound graph paths, relative to GRAPH_URI
const graphPhotoPath = "me/photo/$value"

// Upstream photo headers that are not forwarded to the browser
var droppedPhotoHeaders = []string{
	"Etag",
	"Request-Id",
	"Client-Request-Id",
	"X-Ms-Ags-Diagnostic",
	"Date",
	"Cache-Control",
}

const photoCacheControl = "private, max-age: 3600"
