// Package s3 stores binary images in Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "images/")
//
//	env, err := clips.New(clips.WithBlobStore(store))
//	err = env.LoadImage(ctx, "rules.img")
//
// # Features
//
//   - Ranged GETs pinned to the ETag seen by Open
//   - Streaming multipart uploads through the transfer manager
//   - CRC32C checksums on upload
//   - Abort cancels the upload and discards uploaded parts
package s3
