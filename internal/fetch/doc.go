/*
Package fetch retrieves raw image bytes over the network.

Every fetcher implements types.Fetcher and reports failures as TIMEOUT or
TRANSPORT LoaderErrors, never as panics:

  - HTTPFetcher serves http:// and https:// URLs with fasthttp, following up
    to MaxRedirects redirects inside one overall deadline.
  - S3Fetcher serves s3://bucket/key URLs with the AWS SDK.
  - Router picks a fetcher by URL scheme.
  - Guard wraps another fetcher with a shared rate limit and one circuit
    breaker per host.

Nothing here retries. A failed fetch is reported once; asking again is the
caller's decision.
*/
package fetch
