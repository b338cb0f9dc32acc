// Package services implements the licensing business operations on top of
// the store boundary: activation code issuance, purchase event ingestion,
// device slot allocation and validation queries. Services hold no license
// state between calls; every operation reads, decides and writes through
// the store within the request.
package services
