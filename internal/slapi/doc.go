// Package slapi is a client for the Stockholm Lokaltrafik (SL) open APIs used
// by the sensors:
//
//   - Transport departures  (transport.integration.sl.se/v1/sites/{id}/departures)
//   - Deviations            (deviations.integration.sl.se/v1/messages)
//   - Route planner 3.1     (journeyplanner.integration.sl.se/v1/TravelplannerV3_1/trip.json)
//   - Vehicle positions     (api.sl.se/fordonspositioner/GetData)
//
// Upstream failures that carry SL semantics are returned as *Error; plain HTTP
// failures surface as *apiclient.HTTPError.
package slapi
