// Package policy groups the declarative rules a template may attach to its
// runs. Retry backoff lives in the retry sub-package; future rule families
// (rate limits, execution windows) belong here as siblings.
package policy
