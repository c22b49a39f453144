/*
	Package viewer holds the viewer state and serves its volumes over HTTP.

	Every layer source is registered under its token.  The data endpoints are

		GET /neuroglancer/info/:token
		GET /neuroglancer/:format/:token/:scale/:start/:end
		GET /neuroglancer/mesh/:token/:id
		GET /state

	where scale is a comma-separated downsampling key like "2,2,1" and start and end are
	comma-separated voxel coordinates at that scale.
*/
package viewer
