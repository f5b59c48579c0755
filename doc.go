// Package pades signs PDF documents with PAdES baseline signatures and
// validates them.
//
// A signature is created at one of four levels. B embeds the signer's
// certificate chain and the signed digest, T adds a signature time-stamp,
// LT adds a Document Security Store with the certificates, OCSP responses and
// CRLs needed for later validation, and LTA protects that store with a
// document time-stamp.
//
// Basic usage:
//
//	in, _ := os.Open("document.pdf")
//	out, _ := os.Create("signed.pdf")
//
//	err := pades.NewPdfPadesSigner(in, out).
//	    SignWithBaselineLTAProfileWithSigner(ctx, pades.SignerProperties{
//	        SignerName: "John Doe",
//	        Reason:     "Approved",
//	    }, chain, key, tsa.NewHTTPClient("https://freetsa.org/tsr"))
//
// When the private key lives elsewhere, PadesTwoPhaseSigningHelper prepares
// the document and the CMS container, and signs it later.
//
// ValidateSignatures checks the integrity of every signature and validates the
// signer's certificate chain with the evidence found in the document.
//
// PAdES is defined in ETSI EN 319 142-1:
// https://www.etsi.org/deliver/etsi_en/319100_319199/31914201/
package pades
