// Package gallery defines the document collection model for docgallery.
//
// # Overview
//
// A Document is a named, ordered group of images. The full set of documents
// owned by one user is a Collection, keyed by document id. The Collection is
// the unit the sync merge operates over, so every type here serializes to
// the same JSON that is stored locally and written to the remote blob:
//
//	{
//	  "doc_1718000000000_k3j9x0q2a": {
//	    "name": "Trip",
//	    "images": [
//	      {
//	        "name": "beach.jpg",
//	        "url": "data:image/jpeg;base64,/9j/4AAQ...",
//	        "uploadDate": "2024-06-10T08:00:00Z",
//	        "size": 48213,
//	        "type": "image/jpeg"
//	      }
//	    ],
//	    "createdDate": "2024-06-10T07:59:12Z",
//	    "lastModified": "2024-06-10T08:05:00Z"
//	  }
//	}
//
// # Ownership
//
// The live collection is owned by a Library. All mutations go through it so
// that a running sync can merge against the current state without losing
// edits made while it waited on the network.
//
// # Design Principles
//
//   - Image content is self-contained (data URLs), so a document can be
//     exported on its own
//   - Image order is insertion order and is meaningful
//   - lastModified is absent until a document has been synced or edited
package gallery
