// Package errors provides coded, actionable errors for the observe command.
//
// Every code maps to a registered template with a category, a short message
// and usually a detail or a suggestion:
//
//	err := errors.New("E102").
//	    WithField("addr").
//	    WithDetail(`"localhost" has no port`)
//
//	errors.Fprint(os.Stderr, err)
//	// ERROR E102: Invalid listen address
//	//
//	//   Field: addr
//	//
//	//   "localhost" has no port
//	//
//	//   Hint: Use host:port, for example ":8080" or "127.0.0.1:9000"
//
// Codes are grouped by range: E100 configuration, E120 storage, E140
// transport and E160 command line.
package errors
