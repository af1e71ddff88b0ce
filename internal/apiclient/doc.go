// Package apiclient holds the HTTP plumbing shared by every upstream client:
// one *http.Client per upstream with a request timeout and a header-injecting
// round tripper, JSON and raw body fetches, and a typed HTTPError whose URL
// never carries an API key.
package apiclient
