/*
Package fpoint registers endpoints: a method, a path, a piece of business
logic, optional route middleware, and a response strategy.

Each endpoint becomes an nject handler chain:

	service providers -> route middleware -> request normalizer -> responder -> business logic

The business logic only ever sees the normalized fvelope.Input and
returns a result or an error.  Everything about HTTP is handled by the
rest of the chain.

Services

A Service groups endpoints and the nject providers they share.  Services
come in two flavors.  A pre-registered service collects endpoints without
touching a router; Start binds them all, in registration order, and
freezes the service.  Registering on a frozen service panics.  A service
created with RegisterServiceWithMux binds each endpoint as it is
registered.

Routes are matched by gorilla mux in the order they were added, so
registration order is priority order.

Paths may be written gorilla style (/widgets/{id}) or in the colon style
(/widgets/:id).  A colon parameter may carry a pattern in parentheses:
/widgets/:id(\d+).

Registrars

Service.Register returns a Registrar bound to one method and one strategy.
The usual five are:

	get := svc.Register("GET", fvelope.JSON)
	post := svc.Register("POST", fvelope.JSON)
	page := svc.Register("GET", fvelope.HTML)
	download := svc.Register("GET", fvelope.Download)
	redirect := svc.Register("GET", fvelope.Redirect)

CreateHandler builds the same kind of handler without any service or
router.
*/
package fpoint
