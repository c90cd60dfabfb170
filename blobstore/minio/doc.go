// Package minio stores binary images in MinIO or any other S3-compatible
// server (Ceph, SeaweedFS, Garage) through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "knowledge", "images/")
//	env, err := clips.New(clips.WithBlobStore(store))
//
// Reads pin the ETag observed by Open, so an image replaced while it is
// being loaded fails the load instead of mixing two versions.
package minio
