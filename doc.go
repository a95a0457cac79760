/*

Package fenris bootstraps a web server for a server-rendered single page
application.

Endpoints

An endpoint is a path plus business logic.  The business logic receives
one flat Input assembled from the request: path variables, then the JSON
body, then the query string, then request locals set by middleware.  Later
sources win when keys collide.  Cookies are under the "cookies" key.

Whatever the business logic returns is sent according to how the endpoint
was registered:

	GetEndpoint       JSON body
	PostEndpoint      JSON body
	HTMLEndpoint      raw HTML
	DownloadEndpoint  a file transfer, see DownloadResult
	RedirectEndpoint  a redirect, see RedirectResult

An error always becomes a 500 whose body is the JSON encoding of the
error.  Use Reject to choose the body.

Bootstrap

Start assembles the server in a fixed order: built-in middleware
(compression, request logging, JSON body parsing, cross-origin
protection), attached middleware, the bundler's dev middleware when not in
production, static files from Config.OutputDir, the registered endpoints
and finally a catch-all route that renders Config.Component.  Then it
listens on Config.Port, $PORT or 3000.

*/
package fenris
