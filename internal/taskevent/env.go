package taskevent

import "os"

// hostEnv is a thin indirection over os.LookupEnv so proxy-variable
// propagation (spec_full §10) is easy to stub in tests.
var hostEnv = os.LookupEnv
