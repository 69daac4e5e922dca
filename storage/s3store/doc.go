// Package s3store gets and puts whole S3 objects for the s3:// reader and
// sink. Uploads go through the aws-sdk-go-v2 transfer manager.
package s3store
