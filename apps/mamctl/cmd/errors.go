package cmd

import (
	"log"

	"github.com/quatton/mam/pkg/merr"
)

// exitIfSdkError prints guidance for common API failures and exits.
func exitIfSdkError(err error) {
	if err == nil {
		return
	}
	switch {
	case merr.IsCode(err, merr.CodeUnauthorized):
		log.Fatalf("authentication required: pass --token or set MAM_TOKEN (%v)", err)
	case merr.IsCode(err, merr.CodeForbidden):
		log.Fatalf("this command needs the admin role (%v)", err)
	case merr.IsCode(err, merr.CodeNotFound):
		log.Fatalf("not found (%v)", err)
	default:
		log.Fatalf("%v", err)
	}
}
