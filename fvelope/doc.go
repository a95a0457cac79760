/*

Package fvelope provides the request and response halves of a fenris
endpoint.  In combination with fpoint and nject it turns a plain business
logic function into an http.HandlerFunc.

The request side is the normalizer: path variables, the JSON body, the
query string and response locals are flattened into a single Input map.
Later sources win when keys collide:

	path params < body < query < locals

and the raw cookies are always available under the "cookies" key.

The response side is a fixed set of strategies: JSON, HTML, Download and
Redirect.  A strategy only shapes successful results.  Errors are shaped
the same way for every strategy: status 500 and the JSON encoding of the
rejection value.  Use Reject to choose that value.

ParseJSONBody is the cross-cutting body parser that feeds the normalizer.

RecoverInto and RecoverStack turn panics into rejections.

*/
package fvelope
